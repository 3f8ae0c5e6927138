package rkl

// streamPhase tracks where a FlashProgram response stream is: PROGRAM
// partials may arrive, then VERIFY partials, then a terminal SUCCESS. The
// transition is one-way; VERIFY never yields back to PROGRAM within one
// operation.
type streamPhase int

const (
	phaseProgram streamPhase = iota
	phaseVerify
)

func (e *Engine) readResponseHeader() (responseHeader, error) {
	b, err := e.Channel.ReadExact(8)
	if err != nil {
		return responseHeader{}, err
	}
	return parseResponseHeader(b), nil
}

func (e *Engine) readResponsePayload(h responseHeader) ([]byte, error) {
	if h.Length == 0 {
		return nil, nil
	}
	return e.Channel.ReadExact(int(h.Length))
}
