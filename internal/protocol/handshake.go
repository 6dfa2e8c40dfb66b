package protocol

import "github.com/oriys/workerproc/internal/codec"

// Handshake is sent parent to worker exactly once, before the normal frame
// loop starts, using the same framing as every other message. It carries
// everything the worker needs to construct its instance and pick its wire
// mode before a single Request can arrive.
type Handshake struct {
	ClassName       string            `json:"className"`
	ConstructorArgs []byte            `json:"constructorArgs"`
	Serialization   codec.Mode        `json:"serialization"`
	Env             map[string]string `json:"env,omitempty"`
}
