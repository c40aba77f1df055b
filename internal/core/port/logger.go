package port

// Fields структурированные данные для записи в лог
type Fields map[string]interface{}

// LoggerPort контракт системы логирования, единственный логгер, который видит ядро
type LoggerPort interface {
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, err error, fields Fields)
	Debug(msg string, fields Fields)
	// WithFields создает новый экземпляр логгера с уже добавленными полями
	WithFields(fields Fields) LoggerPort
}
