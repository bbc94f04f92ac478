package capture

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmSamples(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestEncodeWAV(t *testing.T) {
	pcm := pcmSamples(0, 1000, -1000, 32767, -32768, 42)

	data, err := EncodeWAV(pcm, 16000, 1)
	require.NoError(t, err)

	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, 44+len(pcm), len(data))

	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(16000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1000, -1000, 32767, -32768, 42}, buf.Data)
}

func TestEncodeWAV_Invalid(t *testing.T) {
	_, err := EncodeWAV(nil, 16000, 1)
	assert.Error(t, err)

	_, err = EncodeWAV(pcmSamples(1), 0, 1)
	assert.Error(t, err)
}

func TestWriteSeeker(t *testing.T) {
	ws := &writeSeeker{}
	_, _ = ws.Write([]byte("hello world"))

	pos, err := ws.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	_, _ = ws.Write([]byte("HELLO"))

	_, err = ws.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	_, _ = ws.Write([]byte("!"))

	assert.Equal(t, "HELLO world!", string(ws.buf))

	_, err = ws.Seek(-100, io.SeekCurrent)
	assert.Error(t, err)
}
