package attestation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// PPID certification-data types, per the DCAP quote certification-data
// format: 2 = PPID encrypted with RSA-2048-OAEP, 3 = PPID encrypted with
// RSA-3072-OAEP. Other types (e.g. 5 = PCK cert chain, 6 = QE report
// certification data) carry no directly-extractable PPID.
const (
	certTypePPIDRSA2048 = 2
	certTypePPIDRSA3072 = 3
	certTypeQEReport    = 6

	ppidRSA2048Len = 256
	ppidRSA3072Len = 384

	certDataHeaderLen = 6 // 2-byte LE cert type + 4-byte LE size
)

// ErrNotEncryptedPPID is returned when the certification-data blob's
// leading cert-type does not identify an encrypted PPID payload.
var ErrNotEncryptedPPID = errors.New("certification data does not contain an encrypted PPID")

// ErrInvalidDataLength is returned when a certification-data blob is
// shorter than the fixed 6-byte type+size header.
var ErrInvalidDataLength = errors.New("certification data shorter than header")

// ExtractPPID strips the 6-byte certification-data header (2-byte
// little-endian cert-type, 4-byte little-endian size) and returns the
// encrypted PPID payload: the first 256 bytes when cert-type is 2
// (RSA-2048-OAEP), the first 384 bytes when cert-type is 3 (RSA-3072-OAEP).
// Any other cert-type fails with ErrNotEncryptedPPID.
func ExtractPPID(logger *zap.Logger, certData []byte) ([]byte, error) {
	if len(certData) < certDataHeaderLen {
		return nil, ErrInvalidDataLength
	}

	certType := binary.LittleEndian.Uint16(certData[0:2])
	payload := certData[certDataHeaderLen:]

	var ppidLen int
	switch certType {
	case certTypePPIDRSA2048:
		ppidLen = ppidRSA2048Len
	case certTypePPIDRSA3072:
		ppidLen = ppidRSA3072Len
	default:
		return nil, fmt.Errorf("%w: cert type %d", ErrNotEncryptedPPID, certType)
	}
	if len(payload) < ppidLen {
		return nil, ErrInvalidDataLength
	}

	if logger != nil && len(payload) >= ppidLen+2 {
		pceid := payload[ppidLen : ppidLen+2]
		logger.Sugar().Debugw("extracted PCEID alongside PPID", "pceid", hexutil.Encode(pceid))
	}

	ppid := make([]byte, ppidLen)
	copy(ppid, payload[:ppidLen])
	return ppid, nil
}

// certNode is one level of the DCAP certification-data TLV tree:
// 2-byte LE type, 4-byte LE size, then size bytes of data.
type certNode struct {
	certType uint16
	data     []byte
}

func parseCertNode(b []byte) (*certNode, error) {
	if len(b) < certDataHeaderLen {
		return nil, ErrInvalidDataLength
	}
	certType := binary.LittleEndian.Uint16(b[0:2])
	size := binary.LittleEndian.Uint32(b[2:6])
	if uint32(len(b)-certDataHeaderLen) < size {
		return nil, fmt.Errorf("%w: declared size %d exceeds remaining %d bytes", ErrInvalidDataLength, size, len(b)-certDataHeaderLen)
	}
	return &certNode{certType: certType, data: b[certDataHeaderLen : certDataHeaderLen+int(size)]}, nil
}

// PPIDFromCertificationTree walks a quote's top-level certification-data
// TLV, descending into QE report certification data (type 6, which wraps
// qe_report || qe_report_sig || qe_auth_data || nested cert-data) to reach
// the leaf cert-data node holding the encrypted PPID, and extracts it.
func PPIDFromCertificationTree(logger *zap.Logger, topLevel []byte) ([]byte, error) {
	node, err := parseCertNode(topLevel)
	if err != nil {
		return nil, err
	}

	if node.certType != certTypeQEReport {
		return ExtractPPID(logger, topLevel)
	}

	// QE report certification data: qe_report(384) || qe_report_sig(64) ||
	// qe_auth_data_size(2) || qe_auth_data || <nested cert-data>.
	const qeReportLen = 384
	const qeReportSigLen = 64
	d := node.data
	if len(d) < qeReportLen+qeReportSigLen+2 {
		return nil, ErrInvalidDataLength
	}
	d = d[qeReportLen+qeReportSigLen:]
	authDataSize := int(binary.LittleEndian.Uint16(d[0:2]))
	d = d[2:]
	if len(d) < authDataSize {
		return nil, ErrInvalidDataLength
	}
	d = d[authDataSize:]

	return ExtractPPID(logger, d)
}
