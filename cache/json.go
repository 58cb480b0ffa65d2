package cache

import "encoding/json"

// GetJSON loads a key and decodes it into v. The bool is false when the key is absent.
func (pc *PersistentCache) GetJSON(bucket, key string, v interface{}) (bool, error) {
	raw, found, err := pc.Get(bucket, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, &Error{Op: "decode", Bucket: bucket, Key: key, Err: err}
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func (pc *PersistentCache) SetJSON(bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &Error{Op: "encode", Bucket: bucket, Key: key, Err: err}
	}
	return pc.Set(bucket, key, string(data))
}
