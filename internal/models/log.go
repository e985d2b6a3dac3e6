package models

// NormalizedLog is the canonical record produced for every decodable raw log.
// String fields holding hashes or addresses are lowercased 0x-hex; decoded
// parameter values are rendered to strings (integers as decimal, hex-shaped
// values lowercased).
type NormalizedLog struct {
	Address     string            `json:"address" db:"address"`
	Topics      []string          `json:"topics" db:"topics"`
	Data        string            `json:"data" db:"data"`
	BlockNumber uint64            `json:"block_number" db:"block_number"`
	TxHash      string            `json:"tx_hash" db:"tx_hash"`
	TxIndex     uint              `json:"tx_index" db:"tx_index"`
	LogIndex    uint              `json:"log_index" db:"log_index"`
	Removed     bool              `json:"removed" db:"removed"`
	Name        string            `json:"name" db:"name"`
	Signature   string            `json:"signature" db:"signature"`
	Topic       string            `json:"topic" db:"topic"`
	Values      map[string]string `json:"values" db:"values"`
}
