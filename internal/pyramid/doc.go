// Package pyramid provides multi-resolution access to whole-slide images.
//
// A slide is exposed as a stack of levels. Level 0 is full resolution and each
// higher level is a coarser, downsampled copy of the same image. Every level
// reports its pixel dimensions and a downsample factor relative to level 0.
//
// # Coordinate System
//
// Region locations are always expressed in level-0 pixel coordinates, no matter
// which level is being read. Region sizes are expressed in the coordinates of
// the requested level:
//   - location (x, y): top-left corner at full resolution
//   - size (width, height): output pixels at the target level
//
// The level-space origin of a read is floor(location / downsample(level)).
//
// # Backends
//
// Two interchangeable backends implement Source:
//   - generated: a single raster (PNG, JPEG, GIF or TIFF) whose coarser levels
//     are produced by repeated 2x box downsampling when the slide is opened
//   - level directory: a directory holding one raster per stored level, named
//     level_0.png, level_1.png and so on
//
// # Thread Safety
//
// A Slide handle is intended for use by a single goroutine. Concurrent workers
// should each open their own handle through an Opener. The decoded level data
// held in a Cache is immutable and may be shared between handles.
//
// # Boundary Handling
//
// Reads that partially overlap the level are clamped; pixels outside the level
// are filled with the pad value (white by default, matching slide background).
// A read lying entirely outside the level fails with ErrOutOfBounds.
package pyramid
