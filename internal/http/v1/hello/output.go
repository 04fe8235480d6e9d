package hello

// Greeting is the exact body returned by GET /hello.
const Greeting = "Hello World!"

const contentTypeText = "text/plain; charset=utf-8"

// GetOutput is written verbatim; huma does not marshal []byte bodies.
type GetOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}
