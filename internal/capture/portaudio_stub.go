//go:build !portaudio

package capture

import "errors"

func newPortAudioHost(int) (Host, error) {
	return nil, errors.New("portaudio backend not compiled in (build with -tags portaudio)")
}
