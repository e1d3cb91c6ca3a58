package lsm

type Option func(*LSM)

func WithCacheSize(size int64) Option {
	return func(l *LSM) {
		l.cacheSize = size
	}
}

func WithMemTableSize(size uint64) Option {
	return func(l *LSM) {
		l.opts.MemTableSize = size
	}
}

func WithBytesPerSync(bytes int) Option {
	return func(l *LSM) {
		l.opts.BytesPerSync = bytes
	}
}
