package core

import (
	"crypto/ed25519"
	"fmt"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/vsf"
)

// Section names for the bidirectional UDP status probe.
const (
	SectionStatusPing = "StatusPing"
	SectionStatusPong = "StatusPong"
)

// StatusPing is a liveness probe; its signature and envelope provenance
// are all the content a ping needs.
type StatusPing struct {
	CreationTime eagletime.Time
}

func EncodeStatusPing(priv ed25519.PrivateKey, creation eagletime.Time) []byte {
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections:     []vsf.Section{{Name: SectionStatusPing}},
	}
	env.Sign(priv)
	return env.Encode()
}

func ParseStatusPing(env *vsf.Envelope) (StatusPing, ed25519.PublicKey, error) {
	if _, ok := env.SectionByName(SectionStatusPing); !ok {
		return StatusPing{}, nil, fmt.Errorf("core: envelope has no %s section", SectionStatusPing)
	}
	return StatusPing{CreationTime: env.CreationTime}, env.SignerPubkey, nil
}

// syncRecordsFieldName is the single StatusPong field that carries every
// sync-record, one value per conversation (each value holds both the token
// and the peer's last-received eagle time, concatenated).
const syncRecordsFieldName = "sync_records"

// EncodeStatusPong builds a pong carrying every friendship's sync-record:
// (conversation_token, last_received_eagle_time) pairs, so the other side
// can resume retransmit-on-reconnect.
func EncodeStatusPong(priv ed25519.PrivateKey, records map[[digest.Size]byte]eagletime.Time, creation eagletime.Time) []byte {
	values := make([][]byte, 0, len(records))
	for token, last := range records {
		t := last.Bytes()
		entry := make([]byte, 0, digest.Size+8)
		entry = append(entry, token[:]...)
		entry = append(entry, t[:]...)
		values = append(values, entry)
	}
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name:   SectionStatusPong,
			Fields: []vsf.Field{{Name: syncRecordsFieldName, Values: values}},
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

// StatusPong is a decoded pong: liveness confirmation plus every
// sync-record the sender is volunteering.
type StatusPong struct {
	CreationTime eagletime.Time
	SyncRecords  map[[digest.Size]byte]eagletime.Time
}

func ParseStatusPong(env *vsf.Envelope) (StatusPong, ed25519.PublicKey, error) {
	sec, ok := env.SectionByName(SectionStatusPong)
	if !ok {
		return StatusPong{}, nil, fmt.Errorf("core: envelope has no %s section", SectionStatusPong)
	}
	out := StatusPong{
		CreationTime: env.CreationTime,
		SyncRecords:  make(map[[digest.Size]byte]eagletime.Time),
	}
	f, ok := sec.Field(syncRecordsFieldName)
	if !ok {
		return out, env.SignerPubkey, nil
	}
	for _, entry := range f.Values {
		if len(entry) != digest.Size+8 {
			continue
		}
		var token [digest.Size]byte
		copy(token[:], entry[:digest.Size])
		var tb [8]byte
		copy(tb[:], entry[digest.Size:])
		out.SyncRecords[token] = eagletime.FromBytes(tb)
	}
	return out, env.SignerPubkey, nil
}
