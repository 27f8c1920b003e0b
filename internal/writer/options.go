package writer

// Options configure a Writer.
type Options struct {
	// ForceIndex lets a write replace an existing range written with a
	// smaller index.
	ForceIndex int
	// Optimistic writes skip type resolution and never create ranges.
	Optimistic bool
	// UpdateTrackedQueries tracks query nodes for records that already
	// existed, not only for records the write created.
	UpdateTrackedQueries bool
}

// Option mutates Options.
type Option func(*Options)

func WithForceIndex(index int) Option {
	return func(o *Options) { o.ForceIndex = index }
}

func WithOptimistic() Option {
	return func(o *Options) { o.Optimistic = true }
}

func WithUpdateTrackedQueries() Option {
	return func(o *Options) { o.UpdateTrackedQueries = true }
}
