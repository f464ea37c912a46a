package exits

import (
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

const ValidatorWithdrawalCredentialsTableName = "validator_withdrawal_credentials"

// Withdrawal credential prefixes.
const (
	CredentialsPrefixBLS         = "0x00"
	CredentialsPrefixExecution   = "0x01"
	CredentialsPrefixCompounding = "0x02"
)

// CredentialsSample is the aggregate count of credential types at one sampled epoch.
type CredentialsSample struct {
	Epoch     phase0.Epoch `json:"epoch"`
	Slot      phase0.Slot  `json:"slot"`
	Timestamp time.Time    `json:"timestamp"`
	Count0x00 uint64       `json:"num_0x00_validators"`
	Count0x01 uint64       `json:"num_0x01_validators"`
	Count0x02 uint64       `json:"num_0x02_validators"`
	Total     uint64       `json:"total_validators"`
}

// CountCredentials adds one validator's credentials to the sample.
func (c *CredentialsSample) CountCredentials(credentials string) {
	c.Total++
	if len(credentials) < 4 {
		return
	}
	switch credentials[:4] {
	case CredentialsPrefixBLS:
		c.Count0x00++
	case CredentialsPrefixExecution:
		c.Count0x01++
	case CredentialsPrefixCompounding:
		c.Count0x02++
	}
}
