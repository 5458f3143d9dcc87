package ftpcore

import (
	"strings"
)

// Feature is a bit flag for a server capability advertised via FEAT.
type Feature uint32

const (
	// FeatMLST covers both MLST and MLSD (RFC 3659 machine listings).
	FeatMLST Feature = 1 << iota
	// FeatMDTM is file modification time retrieval (RFC 3659).
	FeatMDTM
	// FeatRest is REST STREAM, resuming stream-mode transfers (RFC 3659).
	FeatRest
	// FeatSize is file size retrieval (RFC 3659).
	FeatSize
	// FeatUTF8 indicates UTF-8 path name support.
	FeatUTF8
	// FeatPret is the PRET pre-transfer command (distributed FTP).
	FeatPret
	// FeatMFMT is modify-fact modification time.
	FeatMFMT
	// FeatMFCT is modify-fact creation time.
	FeatMFCT
	// FeatMFF is the generic modify-fact command.
	FeatMFF
	// FeatMD5 is the MD5 command.
	FeatMD5
	// FeatXMD5 is the XMD5 command.
	FeatXMD5
	// FeatXCRC is the XCRC command.
	FeatXCRC
	// FeatXSHA1 is the XSHA1 command.
	FeatXSHA1
	// FeatXSHA256 is the XSHA256 command.
	FeatXSHA256
	// FeatXSHA512 is the XSHA512 command.
	FeatXSHA512
	// FeatHash is the HASH command (draft-bryan-ftp-hash).
	FeatHash
)

// HashAlgorithm identifies an algorithm advertised in the HASH feature.
type HashAlgorithm int

const (
	HashSHA1 HashAlgorithm = iota + 1
	HashSHA256
	HashSHA512
	HashMD5
	HashCRC
)

// String returns the algorithm name as it appears on the wire.
func (h HashAlgorithm) String() string {
	switch h {
	case HashSHA1:
		return "SHA-1"
	case HashSHA256:
		return "SHA-256"
	case HashSHA512:
		return "SHA-512"
	case HashMD5:
		return "MD5"
	case HashCRC:
		return "CRC"
	}
	return "UNKNOWN"
}

// featureSet records the capabilities and hash algorithms a server
// advertised in its FEAT reply. It is populated once per non-clone
// session, immediately after authentication; clones inherit it.
type featureSet struct {
	caps        Feature
	hashAlgos   []HashAlgorithm
	defaultHash HashAlgorithm
}

// has performs a bitwise capability test.
func (f *featureSet) has(want Feature) bool {
	return f != nil && f.caps&want != 0
}

// parseFeatures builds a featureSet from the body lines of a FEAT reply.
// Matching is case-insensitive and ignores surrounding whitespace.
func parseFeatures(lines []string) *featureSet {
	fs := &featureSet{}

	for _, line := range lines {
		token := strings.ToUpper(strings.TrimSpace(line))
		if token == "" {
			continue
		}

		switch {
		case token == "MLST" || token == "MLSD" ||
			strings.HasPrefix(token, "MLST ") || strings.HasPrefix(token, "MLSD "):
			fs.caps |= FeatMLST
		case token == "MDTM" || strings.HasPrefix(token, "MDTM "):
			fs.caps |= FeatMDTM
		case strings.HasPrefix(token, "REST"):
			// Advertised as "REST STREAM"
			fs.caps |= FeatRest
		case token == "SIZE":
			fs.caps |= FeatSize
		case token == "UTF8":
			fs.caps |= FeatUTF8
		case token == "PRET":
			fs.caps |= FeatPret
		case token == "MFMT":
			fs.caps |= FeatMFMT
		case token == "MFCT":
			fs.caps |= FeatMFCT
		case token == "MFF" || strings.HasPrefix(token, "MFF "):
			fs.caps |= FeatMFF
		case token == "MD5":
			fs.caps |= FeatMD5
		case token == "XMD5":
			fs.caps |= FeatXMD5
		case token == "XCRC":
			fs.caps |= FeatXCRC
		case token == "XSHA1":
			fs.caps |= FeatXSHA1
		case token == "XSHA256":
			fs.caps |= FeatXSHA256
		case token == "XSHA512":
			fs.caps |= FeatXSHA512
		case strings.HasPrefix(token, "HASH"):
			fs.caps |= FeatHash
			fs.parseHashSuffix(strings.TrimSpace(strings.TrimPrefix(token, "HASH")))
		}
	}

	return fs
}

// parseHashSuffix records the algorithm list of a HASH feature line,
// e.g. "SHA-256*;SHA-1;MD5". A trailing '*' marks the server default.
func (f *featureSet) parseHashSuffix(suffix string) {
	for _, tok := range strings.Split(suffix, ";") {
		tok = strings.TrimSpace(tok)
		isDefault := strings.HasSuffix(tok, "*")
		tok = strings.TrimSuffix(tok, "*")

		var algo HashAlgorithm
		switch tok {
		case "SHA-1":
			algo = HashSHA1
		case "SHA-256":
			algo = HashSHA256
		case "SHA-512":
			algo = HashSHA512
		case "MD5":
			algo = HashMD5
		case "CRC":
			algo = HashCRC
		default:
			continue
		}

		f.hashAlgos = append(f.hashAlgos, algo)
		if isDefault {
			f.defaultHash = algo
		}
	}
}
