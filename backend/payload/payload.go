package payload

// Payload is a serialized value as stored by the engine.
type Payload []byte
