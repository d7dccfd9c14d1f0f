package session

import "fmt"

// ReceiverState tracks a receiver-initiated exchange from the point of view
// of whichever party drives it.
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverIDRequested
	ReceiverSessionOpened
	ReceiverLinkPublished
	ReceiverUploadPrepared
	ReceiverChunksUploaded
	ReceiverFinalized
	ReceiverDecrypted
	ReceiverFailed
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "IDLE"
	case ReceiverIDRequested:
		return "ID_REQUESTED"
	case ReceiverSessionOpened:
		return "SESSION_OPENED"
	case ReceiverLinkPublished:
		return "LINK_PUBLISHED"
	case ReceiverUploadPrepared:
		return "UPLOAD_PREPARED"
	case ReceiverChunksUploaded:
		return "CHUNKS_UPLOADED"
	case ReceiverFinalized:
		return "FINALIZED"
	case ReceiverDecrypted:
		return "DECRYPTED"
	case ReceiverFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// The receiver opens (IDLE to LINK_PUBLISHED), the sender uploads starting
// from a received link, and the receiver downloads once finalized. Each
// party usually runs in its own process and starts from IDLE.
var receiverTransitions = map[ReceiverState][]ReceiverState{
	ReceiverIdle:           {ReceiverIDRequested, ReceiverUploadPrepared, ReceiverDecrypted},
	ReceiverIDRequested:    {ReceiverSessionOpened},
	ReceiverSessionOpened:  {ReceiverLinkPublished},
	ReceiverLinkPublished:  {ReceiverUploadPrepared, ReceiverDecrypted},
	ReceiverUploadPrepared: {ReceiverChunksUploaded},
	ReceiverChunksUploaded: {ReceiverFinalized},
	ReceiverFinalized:      {ReceiverDecrypted},
	ReceiverDecrypted:      {},
	ReceiverFailed:         {},
}

// SenderState tracks a sender-initiated exchange.
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderParamsGenerated
	SenderMetadataEncrypted
	SenderFileEncrypted
	SenderSessionOpened
	SenderChunksUploaded
	SenderLinkIssued
	SenderDecrypted
	SenderFailed
)

func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "IDLE"
	case SenderParamsGenerated:
		return "PARAMS_GENERATED"
	case SenderMetadataEncrypted:
		return "METADATA_ENCRYPTED"
	case SenderFileEncrypted:
		return "FILE_ENCRYPTED"
	case SenderSessionOpened:
		return "SESSION_OPENED"
	case SenderChunksUploaded:
		return "CHUNKS_UPLOADED"
	case SenderLinkIssued:
		return "LINK_ISSUED"
	case SenderDecrypted:
		return "DECRYPTED"
	case SenderFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var senderTransitions = map[SenderState][]SenderState{
	SenderIdle:              {SenderParamsGenerated, SenderDecrypted},
	SenderParamsGenerated:   {SenderMetadataEncrypted},
	SenderMetadataEncrypted: {SenderFileEncrypted},
	SenderFileEncrypted:     {SenderSessionOpened},
	SenderSessionOpened:     {SenderChunksUploaded},
	SenderChunksUploaded:    {SenderLinkIssued},
	SenderLinkIssued:        {SenderDecrypted},
	SenderDecrypted:         {},
	SenderFailed:            {},
}

// transition checks table for from -> to. Moving to failed is always allowed.
func transition[S ~int](table map[S][]S, from, to, failed S) error {
	if to == failed {
		return nil
	}
	for _, allowed := range table[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %v -> %v", from, to)
}
