// Package audio holds the sample-level building blocks of a voice turn.
//
// Capture arrives as a [Buffer] and is flattened into [CanonicalPCM] by
// [Normalize] for transcription. Synthesized speech arrives as an irregular
// byte stream and is re-cut into sample-aligned [Frame] values by a
// [Segmenter]. The package has no I/O of its own.
package audio
