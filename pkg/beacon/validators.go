package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/retry"
)

// ValidatorsByStatus returns head validators whose status is one of statuses.
func (c *HTTPClient) ValidatorsByStatus(ctx context.Context, statuses []string) ([]exits.ValidatorSnapshot, error) {
	q := url.Values{}
	q.Set("status", strings.Join(statuses, ","))

	var resp []RpcValidator
	if err := c.getJSON(ctx, headValidatorsPath+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("validators by status %v: %w", statuses, err)
	}
	return toSnapshots(resp), nil
}

// ValidatorsByIDs returns head validators for the given indices or pubkeys, in chunks to keep URLs bounded.
func (c *HTTPClient) ValidatorsByIDs(ctx context.Context, ids []string) ([]exits.ValidatorSnapshot, error) {
	out := make([]exits.ValidatorSnapshot, 0, len(ids))
	for _, chunk := range chunkIDs(ids, validatorIDsChunkSize, validatorIDsMaxQuery) {
		q := url.Values{}
		q.Set("id", strings.Join(chunk, ","))

		var resp []RpcValidator
		if err := c.getJSON(ctx, headValidatorsPath+"?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("validators by id: %w", err)
		}
		out = append(out, toSnapshots(resp)...)
	}
	return out, nil
}

// chunkIDs splits ids into groups of at most maxCount whose encoded id list stays within maxBytes.
// An id longer than maxBytes on its own still gets a chunk.
func chunkIDs(ids []string, maxCount, maxBytes int) [][]string {
	var (
		chunks [][]string
		cur    []string
		size   int
	)
	for _, id := range ids {
		// each separator encodes as %2C
		n := len(url.QueryEscape(id)) + 3
		if len(cur) > 0 && (len(cur) == maxCount || size+n > maxBytes) {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, id)
		size += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// Validator returns a single head validator by index or pubkey.
func (c *HTTPClient) Validator(ctx context.Context, id string) (*exits.ValidatorSnapshot, error) {
	var resp RpcValidator
	if err := c.getJSON(ctx, fmt.Sprintf(headValidatorPathFmt, url.PathEscape(id)), &resp); err != nil {
		return nil, fmt.Errorf("validator %s: %w", id, err)
	}
	snap := resp.ToSnapshot()
	return &snap, nil
}

// StreamValidators decodes the full head validator set one entry at a time.
// A stream interrupted after the first entry is not retried against another endpoint, so fn never
// sees an entry twice within one call.
func (c *HTTPClient) StreamValidators(ctx context.Context, fn func(exits.ValidatorSnapshot) error) error {
	err := c.get(ctx, headValidatorsPath, func(r io.Reader) error {
		delivered := 0
		err := decodeDataArray(r, func(dec *json.Decoder) error {
			var v RpcValidator
			if err := dec.Decode(&v); err != nil {
				return err
			}
			delivered++
			return fn(v.ToSnapshot())
		})
		if err != nil && delivered > 0 {
			return retry.Permanent(fmt.Errorf("%w: stream interrupted after %d validators: %w", ErrTransient, delivered, err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("stream validators: %w", err)
	}
	return nil
}

// decodeDataArray walks {"data": [ ... ]} calling each for every array element.
func decodeDataArray(r io.Reader, each func(*json.Decoder) error) error {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		if key != "data" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			return err
		}
		for dec.More() {
			if err := each(dec); err != nil {
				return err
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("unexpected token %v, want %v", tok, want)
	}
	return nil
}

func toSnapshots(vs []RpcValidator) []exits.ValidatorSnapshot {
	out := make([]exits.ValidatorSnapshot, 0, len(vs))
	for i := range vs {
		out = append(out, vs[i].ToSnapshot())
	}
	return out
}
