//go:build !linux

package central

func NewHost() (Host, error) {
	return nil, ErrUnsupportedPlatform
}
