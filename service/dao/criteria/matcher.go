package criteria

import (
	"github.com/docflow/flow/service/dao"
)

// FilterByStatus matches an instance status against list parameters; with
// no parameters everything matches.
func FilterByStatus(status string, parameters []*dao.Parameter) bool {
	for _, parameter := range parameters {
		if parameter.Name != "Status" {
			continue
		}
		switch actual := parameter.Value.(type) {
		case string:
			if status != actual {
				return false
			}
		case []string:
			matched := false
			for _, candidate := range actual {
				if status == candidate {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
	}
	return true
}
