package imagegen

import (
	"bytes"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ProbeSize reads the pixel dimensions from an encoded image without
// decoding the full bitmap. Used to fill EffectiveSize when a backend
// returns bytes but omits the size it actually rendered.
func ProbeSize(data []byte) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
