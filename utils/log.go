// Package utils provides utilities that are used in all sub-packages of meshproxy.
package utils

import (
	"flag"
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	Log_debug = iota
	Log_info
	Log_warning
	Log_error
	Log_fatal

	DefaultLL = Log_info
)

// LogLevel: the smaller, the chattier. Our level is zap's level plus one.
var (
	LogLevel       int
	LogOutFileName string

	ZapLogger *zap.Logger
)

func init() {
	flag.IntVar(&LogLevel, "ll", DefaultLL, "log level, 0=debug, 1=info, 2=warning, 3=error, 4=dpanic, 5=panic, 6=fatal")
	flag.StringVar(&LogOutFileName, "lf", "", "log out file name; if empty, logs go to stdout only")
}

func InitLog() {
	atomicLevel := zap.NewAtomicLevel()
	atomicLevel.SetLevel(zapcore.Level(LogLevel - 1))

	writes := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}

	if LogOutFileName != "" {
		writes = append(writes, zapcore.AddSync(&lumberjack.Logger{
			Filename:   LogOutFileName,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}))
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		FunctionKey: "func",
		EncodeLevel: zapcore.CapitalColorLevelEncoder,
		EncodeTime:  zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeName:  zapcore.FullNameEncoder,
		LineEnding:  zapcore.DefaultLineEnding,
	}), zapcore.NewMultiWriteSyncer(writes...), atomicLevel)

	ZapLogger = zap.New(core)
}

func canLogLevel(l zapcore.Level, msg string) *zapcore.CheckedEntry {
	if ZapLogger == nil {
		return nil
	}
	return ZapLogger.Check(l, msg)
}

func CanLogErr(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.ErrorLevel, msg)
}

func CanLogInfo(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.InfoLevel, msg)
}

func CanLogWarn(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.WarnLevel, msg)
}

func CanLogDebug(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.DebugLevel, msg)
}

func Info(msg string) {
	if ce := CanLogInfo(msg); ce != nil {
		ce.Write()
	}
}

func Warn(msg string) {
	if ce := CanLogWarn(msg); ce != nil {
		ce.Write()
	}
}

func Error(msg string) {
	if ce := CanLogErr(msg); ce != nil {
		ce.Write()
	}
}
