/*
The sync package implements the one-way mirroring algorithm. It makes a
replica directory tree match a source directory tree.

There are two trees:
1) The source tree -- the ground truth. It is only ever read.
2) The replica tree -- mutated until every file and directory in the source
   exists in the replica with the same contents, and nothing else does.

Files and directories are matched between the trees purely by their path
relative to each tree's root. There's no rename tracking, so a moved file is
copied to its new location and deleted from its old one.

Two files are considered equal when their md5 digests match. Modification
times and modes are never compared, so a file is only re-copied when its
contents actually changed. The cost is that every file that exists in both
trees is re-read on every pass.

Each pass re-derives everything from the filesystem, so there's no state to
go stale. A pass that fails halfway is safe: the next pass continues from
whatever state the replica was left in.
*/
package sync
