package xmsg

import "strconv"

// Tag is the topic-qualified message-kind identifier. It is the sole
// subscription key on the bus.
type Tag struct {
	Topic   int32
	Message int32
}

// BuildTag constructs a tag from a topic id and a message id.
func BuildTag(topic, message int32) Tag {
	return Tag{Topic: topic, Message: message}
}

// String renders the canonical "<topic>:<message>" debug form.
func (t Tag) String() string {
	return strconv.FormatInt(int64(t.Topic), 10) + ":" + strconv.FormatInt(int64(t.Message), 10)
}
