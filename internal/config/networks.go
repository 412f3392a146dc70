// internal/config/networks.go
package config

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// WrappedSOLMint is the native mint used by the token program to wrap SOL.
var WrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// DefaultOwnerFeeAddress receives the protocol owner's trade fee when no
// override is configured.
var DefaultOwnerFeeAddress = solana.MustPublicKeyFromBase58("FinVobfi4tbdMdfN9jhzUuDVqGXfcFnRGX57xHcTWLfW")

// Programs describes the swap program deployment on one cluster: the
// current program plus any legacy deployments whose pools remain live.
type Programs struct {
	Swap       solana.PublicKey
	LegacySwap []solana.PublicKey
	Token      solana.PublicKey
}

var networks = map[string]Programs{
	"mainnet-beta": {
		Swap:  solana.MustPublicKeyFromBase58("9qvG1zUp8xF1Bi4m6UdRNby1BAAuaDrUxSpv4CmRRMjL"),
		Token: solana.TokenProgramID,
	},
	"testnet": {
		Swap: solana.MustPublicKeyFromBase58("2n2dsFSgmPcZ8jkmBZLGUM2nzuFqcBGQ3JEEj6RJJcEg"),
		LegacySwap: []solana.PublicKey{
			solana.MustPublicKeyFromBase58("9tdctNJuFsYZ6VrKfKEuwwbPp4SFdFw3jYBZU8QUtzeX"),
			solana.MustPublicKeyFromBase58("CrRvVBS4Hmj47TPU3cMukurpmCUYUrdHYxTQBxncBGqw"),
		},
		Token: solana.TokenProgramID,
	},
	"devnet": {
		Swap: solana.MustPublicKeyFromBase58("GKZabbjt1rQ5V8at9axSu5pefGqF4JeHt8f7owt6CHpJ"),
		LegacySwap: []solana.PublicKey{
			solana.MustPublicKeyFromBase58("H1E1G7eD5Rrcy43xvDxXCsjkRggz7MWNMLGJ8YNzJ8PM"),
			solana.MustPublicKeyFromBase58("CMoteLxSPVPoc7Drcggf3QPg3ue8WPpxYyZTg77UGqHo"),
			solana.MustPublicKeyFromBase58("EEuPz4iZA5reBUeZj6x1VzoiHfYeHMppSCnHZasRFhYo"),
		},
		Token: solana.TokenProgramID,
	},
	"localnet": {
		Swap:  solana.MustPublicKeyFromBase58("J2kyyBU3fwZQg3g1akVG7hzfvkLddatJFwWytP5RZ6PE"),
		Token: solana.TokenProgramID,
	},
}

// ResolvePrograms returns the program set for the configured network,
// honouring explicit overrides from the config file.
func (c *Config) ResolvePrograms() (Programs, error) {
	if c.SwapProgram != "" {
		swap, err := solana.PublicKeyFromBase58(c.SwapProgram)
		if err != nil {
			return Programs{}, fmt.Errorf("invalid swap_program: %w", err)
		}
		progs := Programs{Swap: swap, Token: solana.TokenProgramID}
		for _, raw := range c.LegacySwapPrograms {
			legacy, err := solana.PublicKeyFromBase58(raw)
			if err != nil {
				return Programs{}, fmt.Errorf("invalid legacy swap program %q: %w", raw, err)
			}
			progs.LegacySwap = append(progs.LegacySwap, legacy)
		}
		return progs, nil
	}

	progs, ok := networks[c.Network]
	if !ok {
		return Programs{}, fmt.Errorf("unknown network %q", c.Network)
	}
	return progs, nil
}

// OwnerFee returns the configured owner fee account, or the protocol
// default when not set.
func (c *Config) OwnerFee() (solana.PublicKey, error) {
	if c.OwnerFeeAddress == "" {
		return DefaultOwnerFeeAddress, nil
	}
	key, err := solana.PublicKeyFromBase58(c.OwnerFeeAddress)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid owner_fee_address: %w", err)
	}
	return key, nil
}

// HostFee returns the host fee account. The host fee defaults to the
// owner fee address so the owner collects both shares when no host is
// registered.
func (c *Config) HostFee() (solana.PublicKey, error) {
	if c.HostFeeAddress == "" {
		return c.OwnerFee()
	}
	key, err := solana.PublicKeyFromBase58(c.HostFeeAddress)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid host_fee_address: %w", err)
	}
	return key, nil
}
