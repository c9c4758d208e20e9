package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Log является глобальным экземпляром логгера для всего сервера.
var Log = logrus.New()

var initMu sync.Mutex

// Init настраивает глобальный логгер.
// level - уровень логирования ("debug", "info", ...), при ошибке разбора используется info.
// format - "json" для продакшена, любое другое значение - текстовый вывод.
func Init(level, format string) {
	initMu.Lock()
	defer initMu.Unlock()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if strings.ToLower(format) == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	Log.SetOutput(os.Stdout)
}

// For возвращает логгер, помеченный именем компонента.
func For(component string) *logrus.Entry {
	return Log.WithField("component", component)
}

// Discard возвращает логгер без вывода (для тестов).
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
