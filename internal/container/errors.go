package container

import "errors"

var (
	// ErrSinkCreation is returned when the output path cannot be cleared or
	// the sink cannot be created for the requested format.
	ErrSinkCreation = errors.New("sink creation failed")

	// ErrUnsupportedTrack is returned when the sink rejects a track spec.
	ErrUnsupportedTrack = errors.New("unsupported track")

	// ErrWriterStart is returned when the sink refuses to begin writing.
	ErrWriterStart = errors.New("writer start failed")

	// ErrTracksNotFinished is returned by Finalize while a track is open.
	ErrTracksNotFinished = errors.New("tracks not finished")

	// ErrNotWriting is returned when an operation needs the Writing state.
	ErrNotWriting = errors.New("container not writing")
)
