package ble

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

const (
	frameVersion = 1
	// headerLen is version(1) + packet(4) + index(1) + count(1).
	headerLen = 7
	nonceLen  = 12
	tagLen    = 16
	// maxWrite is the largest single write accepted by the receiver.
	maxWrite = 244
	// MaxChunkBytes is the text capacity of one frame.
	MaxChunkBytes = maxWrite - headerLen - nonceLen - tagLen
	// maxChunks bounds one message; longer text is truncated.
	maxChunks = 255
)

const keyInfo = "gostt-stream ble transcript v1"

// Header precedes the sealed payload of every frame and is authenticated
// with it.
type Header struct {
	Packet uint32 // message counter, shared by all frames of one message
	Index  uint8
	Count  uint8
}

func (h Header) bytes() []byte {
	b := make([]byte, headerLen)
	b[0] = frameVersion
	binary.BigEndian.PutUint32(b[1:5], h.Packet)
	b[5] = h.Index
	b[6] = h.Count
	return b
}

// Sealer encrypts frames with a key derived from the pairing secret.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte AES key from secret with HKDF-SHA256.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("ble: shared secret must be at least 16 bytes, got %d", len(secret))
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("ble: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ble: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ble: new GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns header || nonce || ciphertext || tag.
func (s *Sealer) Seal(h Header, chunk string) ([]byte, error) {
	hdr := h.bytes()
	out := make([]byte, headerLen+nonceLen, headerLen+nonceLen+len(chunk)+tagLen)
	copy(out, hdr)
	nonce := out[headerLen:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ble: random nonce: %w", err)
	}
	return s.aead.Seal(out, nonce, []byte(chunk), hdr), nil
}

// Open authenticates and decrypts a frame produced by Seal.
func (s *Sealer) Open(frame []byte) (Header, string, error) {
	if len(frame) < headerLen+nonceLen+tagLen {
		return Header{}, "", errors.New("ble: frame too short")
	}
	if frame[0] != frameVersion {
		return Header{}, "", fmt.Errorf("ble: unknown frame version %d", frame[0])
	}
	h := Header{
		Packet: binary.BigEndian.Uint32(frame[1:5]),
		Index:  frame[5],
		Count:  frame[6],
	}
	nonce := frame[headerLen : headerLen+nonceLen]
	plain, err := s.aead.Open(nil, nonce, frame[headerLen+nonceLen:], frame[:headerLen])
	if err != nil {
		return Header{}, "", fmt.Errorf("ble: open frame: %w", err)
	}
	return h, string(plain), nil
}

// splitText cuts text into pieces of at most maxBytes, preferring the last
// space before the limit and never splitting a UTF-8 sequence. Spaces stay
// attached to the preceding piece so joining the pieces restores text.
func splitText(text string, maxBytes int) []string {
	var out []string
	for len(text) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		for i := cut; i > 0; i-- {
			if text[i-1] == ' ' {
				cut = i
				break
			}
		}
		if cut == 0 {
			_, size := utf8.DecodeRuneInString(text)
			cut = size
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
