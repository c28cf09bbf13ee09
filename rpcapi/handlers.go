package rpcapi

import (
	"encoding/json"
	"fmt"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/service"
	"github.com/opensmt/smtd/smt"
)

type optParams struct {
	GetRoot  bool `json:"get_root"`
	GetProof bool `json:"get_proof"`
}

func (o optParams) toServiceOpt() service.Opt {
	return service.Opt{GetRoot: o.GetRoot, GetProof: o.GetProof}
}

type pairParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// updateParams is the positional [opt, smt_name, pairs] params shape
// shared by update_memory_smt, update_db_smt, and update_db_smt_middle.
type updateParams struct {
	Opt      optParams
	TreeName string
	Pairs    []pairParams
}

func (p *updateParams) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("params must be a JSON array: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("want 3 params (opt, smt_name, pairs), got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Opt); err != nil {
		return fmt.Errorf("opt: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.TreeName); err != nil {
		return fmt.Errorf("smt_name: %w", err)
	}
	if err := json.Unmarshal(raw[2], &p.Pairs); err != nil {
		return fmt.Errorf("pairs: %w", err)
	}
	return nil
}

func (p *updateParams) toPairs() ([]smt.Pair, error) {
	pairs := make([]smt.Pair, len(p.Pairs))
	for i, pp := range p.Pairs {
		key, err := decodeHash(pp.Key)
		if err != nil {
			return nil, fmt.Errorf("pairs[%d].key: %w", i, err)
		}
		value, err := decodeHash(pp.Value)
		if err != nil {
			return nil, fmt.Errorf("pairs[%d].value: %w", i, err)
		}
		pairs[i] = smt.Pair{Key: key, Value: value}
	}
	return pairs, nil
}

// treeNameParams is the positional [smt_name] params shape shared by
// get_smt_root and delete_smt.
type treeNameParams struct {
	TreeName string
}

func (p *treeNameParams) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("params must be a JSON array: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("want 1 param (smt_name), got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.TreeName); err != nil {
		return fmt.Errorf("smt_name: %w", err)
	}
	return nil
}

// updateResult is the {root, proofs} shape returned by
// update_memory_smt and update_db_smt.
type updateResult struct {
	Root   string            `json:"root"`
	Proofs map[string]string `json:"proofs"`
}

// sequencedResult is the {roots, proofs} shape returned by
// update_db_smt_middle.
type sequencedResult struct {
	Roots  map[string]string `json:"roots"`
	Proofs map[string]string `json:"proofs"`
}

// emptyProofSentinel is the single-entry {hex(zero): ""} mapping used
// whenever proofs were not requested (spec.md §6.2).
func emptyProofSentinel() map[string]string {
	return map[string]string{encodeHash(hasher.H256{}): ""}
}

func proofsToHex(proofs map[hasher.H256][]byte, requested bool) map[string]string {
	if !requested {
		return emptyProofSentinel()
	}
	out := make(map[string]string, len(proofs))
	for k, v := range proofs {
		out[encodeHash(k)] = encodeProof(v)
	}
	return out
}

func rootsToHex(roots map[hasher.H256]hasher.H256) map[string]string {
	out := make(map[string]string, len(roots))
	for k, v := range roots {
		out[encodeHash(k)] = encodeHash(v)
	}
	return out
}
