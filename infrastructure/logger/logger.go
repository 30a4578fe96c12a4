package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"moneymate-trader/monitor/logschema"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, stderr, file
	OutputFile string   `yaml:"output_file"` // 日志文件路径
	ErrorFile  string   `yaml:"error_file"`  // 错误日志单独文件
	Format     string   `yaml:"format"`      // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stderr"},
		Format:  "console",
	}
}

// New 创建新的Logger实例
func New(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	newEncoder := func() zapcore.Encoder {
		if cfg.Format == "console" {
			return zapcore.NewConsoleEncoder(encoderConfig)
		}
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{}

	// 终端输出；交互模式下 stdout 留给界面，默认写 stderr
	if contains(cfg.Outputs, "stdout") {
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.AddSync(os.Stdout), level))
	}
	if contains(cfg.Outputs, "stderr") {
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.AddSync(os.Stderr), level))
	}

	// 文件输出
	if contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		fileWriter, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file failed: %w", err)
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(fileWriter), level))
	}

	// 错误日志单独文件
	if cfg.ErrorFile != "" {
		errorWriter, err := os.OpenFile(cfg.ErrorFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open error log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(errorWriter),
			zapcore.ErrorLevel,
		))
	}

	core := zapcore.NewTee(cores...)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{
		Logger: zapLogger,
		config: cfg,
	}, nil
}

// NewNop 不输出任何内容，测试及未注入日志时使用。
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Wrap 包装已有的 zap.Logger（测试中配合 zaptest/observer）。
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		return NewNop()
	}
	return &Logger{Logger: z}
}

// WithFields 添加字段返回新的logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(toZapFields(fields)...),
		config: l.config,
	}
}

// LogEvent 按 logschema 校验字段后输出；缺字段不丢日志，只追加 _schema_error。
func (l *Logger) LogEvent(level zapcore.Level, event string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err := logschema.Validate(event, fields); err != nil {
		fields["_schema_error"] = err.Error()
	}
	fields["event"] = event
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	if ce := l.Check(level, event); ce != nil {
		ce.Write(toZapFields(fields)...)
	}
}

// LogFlow 记录状态机迁移
func (l *Logger) LogFlow(flow, from, to string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["flow"] = flow
	fields["from"] = from
	fields["to"] = to
	l.LogEvent(zapcore.InfoLevel, "flow_transition", fields)
}

// LogStrategy 记录自动策略动作
func (l *Logger) LogStrategy(action, status string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["action"] = action
	fields["status"] = status
	l.LogEvent(zapcore.InfoLevel, "strategy_action", fields)
}

// LogRemote 记录一次 HTTP 调用
func (l *Logger) LogRemote(method, endpoint string, status int, elapsed time.Duration, err error) {
	fields := map[string]interface{}{
		"method":    method,
		"endpoint":  endpoint,
		"status":    status,
		"elapsedMs": elapsed.Milliseconds(),
	}
	level := zapcore.DebugLevel
	if err != nil {
		fields["error"] = err.Error()
		level = zapcore.WarnLevel
	}
	l.LogEvent(level, "remote_call", fields)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	if context == nil {
		context = make(map[string]interface{})
	}
	context["error"] = err.Error()
	l.LogEvent(zapcore.ErrorLevel, "action_error", context)
}

// Close 关闭日志器
func (l *Logger) Close() error {
	return l.Sync()
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return zapFields
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
