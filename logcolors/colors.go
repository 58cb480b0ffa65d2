package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Red    = "\033[31m"
	Yellow = "\033[33m"

	BrightGreen = "\033[92m"
	BrightBlue  = "\033[94m"
)

// Cache-related log prefixes
const (
	LogCacheInit     = Blue + "[Cache:Init]" + Reset
	LogCache         = Blue + "[Cache]" + Reset
	LogCacheBackup   = Blue + "[Cache:Backup]" + Reset
	LogCacheClear    = Blue + "[Cache:Clear]" + Reset
	LogCacheMaps     = Green + "[Cache:Maps]" + Reset
	LogCacheLyrics   = Green + "[Cache:Lyrics]" + Reset
	LogCacheNegative = Yellow + "[Cache:Negative]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// QueuePrefix returns a colored queue prefix for a service
func QueuePrefix(service string) string {
	return BrightBlue + "[Queue:" + service + "]" + Reset
}

// WorkerPrefix returns a colored worker prefix for a service
func WorkerPrefix(service string) string {
	return BrightGreen + "[Worker:" + service + "]" + Reset
}

// Server/Init log prefixes
const (
	LogServer = Green + "[Server]" + Reset
	LogConfig = Cyan + "[Config]" + Reset
	LogStats  = Blue + "[Stats]" + Reset
)

// Notification log prefixes
const (
	LogNotifier = Cyan + "[Notifier]" + Reset
	LogEvents   = Cyan + "[Events]" + Reset
)

// Upstream service log prefixes
const (
	LogRequest   = Purple + "[Request]" + Reset
	LogBeatSaver = Blue + "[BeatSaver]" + Reset
	LogLrclib    = Blue + "[LRCLIB]" + Reset
	LogArchive   = Cyan + "[Archive]" + Reset
	LogHTTP      = Red + "[HTTP]" + Reset
	LogDedup     = Cyan + "[Dedup]" + Reset
)
