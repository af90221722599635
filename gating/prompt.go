package gating

import "fmt"

const promptTemplate = `The following is a raw recording of a conversation between several people. It has no punctuation and some words may have been transcribed incorrectly.
Conversation: "%s"

Decide whether the conversation contains enough information to visually describe the surroundings of the people. Ignore unrelated dialog and meaningless words.
Respond with a json object with a field "probability", the probability from 0 to 10 that this conversation can be used to create a visual image, and a field "prompt", a description of the image that represents what the people are seeing, suitable for an image generation model.
Do not describe the people unless they are specifically talking about themselves. The prompt should be terse, include only visual information, and not try to describe too many things.
Example:
{"probability": 9, "prompt": "An illustration of a huge wolf, red eyes"}
Reply with only the json object`

func buildPrompt(window string) string {
	return fmt.Sprintf(promptTemplate, window)
}
