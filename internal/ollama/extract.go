package ollama

// Shape identifies which of the three reply layouts a response used.
type Shape int

const (
	ShapeRaw      Shape = iota // no recognised envelope, the whole reply is the content
	ShapeMessages              // batched reply with a "messages" list
	ShapeMessage               // single turn reply with one "message"
)

func (s Shape) String() string {
	switch s {
	case ShapeMessages:
		return "messages"
	case ShapeMessage:
		return "message"
	default:
		return "raw"
	}
}

// Reply is a decoded response tagged by its shape.
type Reply struct {
	Shape    Shape
	Messages []any // ShapeMessages
	Message  any   // ShapeMessage
	Raw      any   // ShapeRaw
}

func decodeReply(resp any) Reply {
	if obj, ok := resp.(map[string]any); ok {
		if msgs, ok := obj["messages"].([]any); ok {
			return Reply{Shape: ShapeMessages, Messages: msgs}
		}
		if msg, ok := obj["message"]; ok {
			return Reply{Shape: ShapeMessage, Message: msg}
		}
	}

	return Reply{Shape: ShapeRaw, Raw: resp}
}

// Extract returns the content values held in resp. A "messages" list yields
// one value per entry, a single "message" yields one value, and anything else
// is returned whole as the sole value. Missing content fields become "".
//
// n is the number of images in the originating request. The caller is
// expected to compare it with the number of values returned.
func Extract(resp any, n int) []any {
	r := decodeReply(resp)
	switch r.Shape {
	case ShapeMessages:
		contents := make([]any, len(r.Messages))
		for i, m := range r.Messages {
			contents[i] = contentOf(m)
		}
		return contents
	case ShapeMessage:
		return []any{contentOf(r.Message)}
	}

	// A raw reply can only describe a single image
	return []any{r.Raw}
}

func contentOf(m any) any {
	obj, ok := m.(map[string]any)
	if !ok {
		return ""
	}
	c, ok := obj["content"]
	if !ok {
		return ""
	}
	return c
}
