// Package logging 初始化全局 slog，同时输出到终端和滚动日志文件
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string // debug / info / warn / error
	Format     string // text / json
	File       string // 为空时只输出到 stdout
	MaxSizeMB  int
	MaxBackups int
	Quiet      bool // 不输出到 stdout
}

// Setup 设置默认 logger，返回的 closer 用于退出时关闭日志文件
func Setup(opts Options) (io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if opts.Quiet {
		out = io.Discard
	}
	if opts.File != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 5
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 5
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB, // MB
			MaxBackups: opts.MaxBackups,
		}
		if opts.Quiet {
			out = rotator
		} else {
			out = io.MultiWriter(os.Stdout, rotator)
		}
		closer = rotator
	}

	slog.SetDefault(slog.New(NewHandler(out, opts.Format, level)))
	return closer, nil
}

func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	ho := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
