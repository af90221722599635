package listener

import (
	"math"
	"time"

	"illustrator/audio"
	"illustrator/encoder"
)

type Options struct {
	// FrameSize is the analysis window in samples.
	FrameSize int
	// Calibration is how long ambient noise is sampled before listening.
	Calibration time.Duration
	// Pause is the silence that ends a phrase.
	Pause time.Duration
	// PhraseLimit cuts a phrase that runs this long.
	PhraseLimit time.Duration
	// PreRoll is audio kept from before the phrase started. Zero disables it.
	PreRoll time.Duration
	// MinSpeech discards phrases with less speech than this.
	MinSpeech time.Duration
	// ThresholdFloor is the lowest energy threshold, as normalized RMS.
	ThresholdFloor float64
	// CalibrationRatio multiplies the mean ambient RMS.
	CalibrationRatio float64
	// Dynamic keeps tracking ambient noise between phrases.
	Dynamic bool
	// DynamicDamping is the per-second decay of the old threshold.
	DynamicDamping float64
}

func DefaultOptions() Options {
	return Options{
		FrameSize:        512,
		Calibration:      2 * time.Second,
		Pause:            800 * time.Millisecond,
		PhraseLimit:      10 * time.Second,
		PreRoll:          500 * time.Millisecond,
		MinSpeech:        300 * time.Millisecond,
		ThresholdFloor:   0.005,
		CalibrationRatio: 1.5,
		Dynamic:          true,
		DynamicDamping:   0.15,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FrameSize <= 0 {
		o.FrameSize = d.FrameSize
	}
	if o.Calibration <= 0 {
		o.Calibration = d.Calibration
	}
	if o.Pause <= 0 {
		o.Pause = d.Pause
	}
	if o.PhraseLimit <= 0 {
		o.PhraseLimit = d.PhraseLimit
	}
	if o.PreRoll < 0 {
		o.PreRoll = 0
	}
	if o.MinSpeech < 0 {
		o.MinSpeech = 0
	}
	if o.ThresholdFloor <= 0 {
		o.ThresholdFloor = d.ThresholdFloor
	}
	if o.CalibrationRatio <= 0 {
		o.CalibrationRatio = d.CalibrationRatio
	}
	if o.DynamicDamping <= 0 || o.DynamicDamping >= 1 {
		o.DynamicDamping = d.DynamicDamping
	}
	return o
}

// Segmenter splits a PCM stream into phrases by frame energy. It is not safe
// for concurrent use.
type Segmenter struct {
	opts     Options
	frameDur time.Duration

	calibFrames   int
	pauseFrames   int
	limitFrames   int
	preRollFrames int
	minSpeech     int
	damping       float64

	pending []int16

	calibSeen  int
	calibSum   float64
	calibrated bool
	noise      float64
	threshold  float64

	preRoll [][]int16

	inPhrase     bool
	phrase       []int16
	phraseFrames int
	speechFrames int
	silentFrames int

	level float64
}

func NewSegmenter(opts Options) *Segmenter {
	opts = opts.withDefaults()
	frameDur := encoder.Duration(opts.FrameSize)
	frames := func(d time.Duration) int {
		return int(math.Ceil(float64(d) / float64(frameDur)))
	}
	return &Segmenter{
		opts:          opts,
		frameDur:      frameDur,
		calibFrames:   max(frames(opts.Calibration), 1),
		pauseFrames:   max(frames(opts.Pause), 1),
		limitFrames:   max(frames(opts.PhraseLimit), 1),
		preRollFrames: frames(opts.PreRoll),
		minSpeech:     frames(opts.MinSpeech),
		damping:       math.Pow(opts.DynamicDamping, frameDur.Seconds()),
		threshold:     opts.ThresholdFloor,
	}
}

func (s *Segmenter) Calibrated() bool    { return s.calibrated }
func (s *Segmenter) Threshold() float64  { return s.threshold }
func (s *Segmenter) NoiseFloor() float64 { return s.noise }

// Level is the RMS of the most recent frame.
func (s *Segmenter) Level() float64 { return s.level }

// Feed consumes samples and returns the phrases completed by them.
func (s *Segmenter) Feed(samples []int16) [][]int16 {
	s.pending = append(s.pending, samples...)
	var out [][]int16
	for len(s.pending) >= s.opts.FrameSize {
		frame := make([]int16, s.opts.FrameSize)
		copy(frame, s.pending[:s.opts.FrameSize])
		s.pending = s.pending[s.opts.FrameSize:]
		if p := s.frame(frame); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Flush ends an in-progress phrase, returning it if it holds enough speech.
func (s *Segmenter) Flush() []int16 {
	if !s.inPhrase {
		return nil
	}
	return s.endPhrase()
}

func (s *Segmenter) frame(frame []int16) []int16 {
	rms := audio.RMS(frame)
	s.level = rms

	if !s.calibrated {
		s.calibSum += rms
		s.calibSeen++
		if s.calibSeen >= s.calibFrames {
			s.noise = s.calibSum / float64(s.calibSeen)
			s.threshold = max(s.noise*s.opts.CalibrationRatio, s.opts.ThresholdFloor)
			s.calibrated = true
		}
		return nil
	}

	if !s.inPhrase {
		if rms > s.threshold {
			s.startPhrase(frame)
			return nil
		}
		if s.opts.Dynamic {
			target := rms * s.opts.CalibrationRatio
			s.threshold = max(s.threshold*s.damping+target*(1-s.damping), s.opts.ThresholdFloor)
		}
		s.pushPreRoll(frame)
		return nil
	}

	s.phrase = append(s.phrase, frame...)
	s.phraseFrames++
	if rms > s.threshold {
		s.speechFrames++
		s.silentFrames = 0
	} else {
		s.silentFrames++
	}
	if s.silentFrames >= s.pauseFrames || s.phraseFrames >= s.limitFrames {
		return s.endPhrase()
	}
	return nil
}

func (s *Segmenter) startPhrase(frame []int16) {
	s.inPhrase = true
	s.phrase = s.phrase[:0]
	for _, f := range s.preRoll {
		s.phrase = append(s.phrase, f...)
	}
	s.preRoll = s.preRoll[:0]
	s.phrase = append(s.phrase, frame...)
	s.phraseFrames = 1
	s.speechFrames = 1
	s.silentFrames = 0
}

func (s *Segmenter) pushPreRoll(frame []int16) {
	if s.preRollFrames == 0 {
		return
	}
	if len(s.preRoll) == s.preRollFrames {
		copy(s.preRoll, s.preRoll[1:])
		s.preRoll = s.preRoll[:len(s.preRoll)-1]
	}
	s.preRoll = append(s.preRoll, frame)
}

func (s *Segmenter) endPhrase() []int16 {
	s.inPhrase = false
	speech := s.speechFrames
	phrase := make([]int16, len(s.phrase))
	copy(phrase, s.phrase)
	s.phrase = s.phrase[:0]
	s.phraseFrames, s.speechFrames, s.silentFrames = 0, 0, 0
	if speech < s.minSpeech {
		return nil
	}
	return phrase
}
