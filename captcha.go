package formguard

// PlainTextRenderer emits the challenge answer verbatim as text/plain. It
// exists for tests and for callers that apply their own distortion; it offers
// no bot resistance on its own.
type PlainTextRenderer struct{}

func (PlainTextRenderer) Render(answer string) ([]byte, string, error) {
	return []byte(answer), "text/plain; charset=utf-8", nil
}
