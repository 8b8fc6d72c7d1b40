package mumble

import (
	"io"

	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

func init() {
	root := logrus.New()
	root.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 13,
		DisableColors: true,
	})
	root.SetOutput(io.Discard)
	logger = root.WithFields(logrus.Fields{"prefix": "mumble"})
}

// SetLogger replaces the package logger. Pass an entry derived from the
// application's root logger to get uniform formatting.
func SetLogger(l *logrus.Entry) {
	logger = l
}
