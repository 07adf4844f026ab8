package query

import (
	"regexp"
	"strings"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
)

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent 表名、列名只允许字母数字下划线，不能以数字开头
func ValidIdent(name string) bool {
	return identRegexp.MatchString(name)
}

// Quote 校验并加双引号
func Quote(name string) (string, error) {
	if !ValidIdent(name) {
		return "", errors.Wrapf(rdb.ErrInvalidFieldSpec, "invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

func quoteList(names []string) (string, error) {
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		q, err := Quote(name)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, ", "), nil
}
