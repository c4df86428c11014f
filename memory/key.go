package memory

import "strings"

// Separator joins namespace and id in a composite key.
const Separator = ":"

// CompositeKey returns the physical storage key for (namespace, id).
//
// Namespaces never contain Separator, so the first Separator in a key always
// ends the namespace and ids may contain anything.
func CompositeKey(namespace, id string) string {
	return namespace + Separator + id
}

// SplitKey is the inverse of CompositeKey. It reports false for keys that
// no valid (namespace, id) pair produces.
func SplitKey(key string) (namespace, id string, ok bool) {
	namespace, id, ok = strings.Cut(key, Separator)
	if !ok || namespace == "" || id == "" {
		return "", "", false
	}
	return namespace, id, true
}

func validateNamespace(namespace string) error {
	if namespace == "" {
		return invalidKey("namespace is empty")
	}
	if strings.Contains(namespace, Separator) {
		return invalidKey("namespace %q contains %q", namespace, Separator)
	}
	return nil
}

func validateKey(namespace, id string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if id == "" {
		return invalidKey("id is empty")
	}
	return nil
}
