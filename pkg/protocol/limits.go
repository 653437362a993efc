package protocol

// Size and nesting limits applied to client messages.
const (
	// MaxMessageSize bounds a single client message in bytes.
	MaxMessageSize = 1 << 20

	// MaxPayloadDepth bounds nesting of objects and arrays inside event_data.
	MaxPayloadDepth = 32
)

// depthContext tracks the current depth while walking a decoded payload.
type depthContext struct {
	current int
	max     int
}

func newDepthContext(max int) *depthContext {
	return &depthContext{max: max}
}

// enter increments the depth and fails when the limit would be exceeded.
// The depth is only incremented on success.
func (dc *depthContext) enter() error {
	if dc.current >= dc.max {
		return ErrMaxDepthExceeded
	}
	dc.current++
	return nil
}

func (dc *depthContext) leave() {
	dc.current--
}

func checkDepth(v any, dc *depthContext) error {
	switch x := v.(type) {
	case map[string]any:
		if err := dc.enter(); err != nil {
			return err
		}
		defer dc.leave()
		for _, child := range x {
			if err := checkDepth(child, dc); err != nil {
				return err
			}
		}
	case []any:
		if err := dc.enter(); err != nil {
			return err
		}
		defer dc.leave()
		for _, child := range x {
			if err := checkDepth(child, dc); err != nil {
				return err
			}
		}
	}
	return nil
}
