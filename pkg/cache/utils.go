package cache

import (
	"encoding/json"
	"fmt"
)

// GenerateKeyWithParams joins prefix and params with ':'.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	key := prefix
	for _, param := range params {
		key = fmt.Sprintf("%s:%v", key, param)
	}
	return key
}

func encodeValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func decodeValue(data string, dest interface{}) error {
	if s, ok := dest.(*string); ok {
		*s = data
		return nil
	}
	return json.Unmarshal([]byte(data), dest)
}
