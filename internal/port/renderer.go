package port

import "context"

// Renderer burns a text label into an image and returns the encoded result.
type Renderer interface {
	Render(ctx context.Context, image []byte, label string) ([]byte, error)
}
