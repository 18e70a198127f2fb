//go:build !whisper_cpp

package transcribe

import "errors"

func openWhisperCPP(string) (Engine, error) {
	return nil, errors.New("whisper.cpp engine not compiled in (build with -tags whisper_cpp)")
}
