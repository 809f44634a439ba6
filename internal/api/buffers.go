package api

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	requestBufferSize  = 4096
	responseBufferSize = 8192
)

// requestBufferPool holds buffers used to read request bodies.
var requestBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, requestBufferSize))
	},
}

// responseBufferPool holds buffers used to encode responses before writing.
var responseBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, responseBufferSize))
	},
}

func getBuffer(p *sync.Pool, size int) *bytes.Buffer {
	v := p.Get()
	buf, ok := v.(*bytes.Buffer)
	if !ok {
		log.Warn().Interface("got_type", v).Msg("Unexpected type from buffer pool")
		return bytes.NewBuffer(make([]byte, 0, size))
	}
	return buf
}

func putBuffer(p *sync.Pool, buf *bytes.Buffer) {
	// Oversized buffers are dropped so one large config upload does not pin memory.
	if buf.Cap() > 64*1024 {
		return
	}
	buf.Reset()
	p.Put(buf)
}
