package payload

// Payload is the serialized form of orchestration and activity inputs and results.
type Payload []byte
