// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sandbox

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// WriteBuffer allocates len(data) bytes in sb and copies data there.
func WriteBuffer(ctx context.Context, sb Sandbox, data []byte) (uint32, error) {
	ptr, err := sb.Allocate(ctx, uint32(len(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "allocating %d bytes", len(data))
	}
	if err := sb.Write(ptr, data); err != nil {
		return 0, errors.CombineErrors(err, sb.Free(ctx, ptr, uint32(len(data))))
	}
	return ptr, nil
}

// ReadBuffer returns a copy of the size bytes at ptr.
func ReadBuffer(sb Sandbox, ptr, size uint32) ([]byte, error) {
	data, err := sb.Read(ptr, size)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %d bytes at %d", size, ptr)
	}
	return data, nil
}

// FreeBuffer releases a buffer. A zero pointer is ignored.
func FreeBuffer(ctx context.Context, sb Sandbox, ptr, size uint32) error {
	if ptr == 0 {
		return nil
	}
	return sb.Free(ctx, ptr, size)
}

// WriteWide allocates a wide pointer record describing the buffer at ptr.
func WriteWide(ctx context.Context, sb Sandbox, ptr, size uint32) (uint32, error) {
	var rec [WidePointerSize]byte
	binary.LittleEndian.PutUint32(rec[0:4], ptr)
	binary.LittleEndian.PutUint32(rec[4:8], size)
	return WriteBuffer(ctx, sb, rec[:])
}

// ReadWide decodes the wide pointer record at wide.
func ReadWide(sb Sandbox, wide uint32) (ptr, size uint32, err error) {
	rec, err := sb.Read(wide, WidePointerSize)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "reading wide pointer at %d", wide)
	}
	return binary.LittleEndian.Uint32(rec[0:4]), binary.LittleEndian.Uint32(rec[4:8]), nil
}

// WriteWideBuffer copies data into sb and returns a wide pointer to it.
func WriteWideBuffer(ctx context.Context, sb Sandbox, data []byte) (uint32, error) {
	ptr, err := WriteBuffer(ctx, sb, data)
	if err != nil {
		return 0, err
	}
	wide, err := WriteWide(ctx, sb, ptr, uint32(len(data)))
	if err != nil {
		return 0, errors.CombineErrors(err, sb.Free(ctx, ptr, uint32(len(data))))
	}
	return wide, nil
}

// ReadWideBuffer returns a copy of the buffer a wide pointer describes.
func ReadWideBuffer(sb Sandbox, wide uint32) ([]byte, error) {
	ptr, size, err := ReadWide(sb, wide)
	if err != nil {
		return nil, err
	}
	return ReadBuffer(sb, ptr, size)
}

// FreeWide releases both the buffer a wide pointer describes and the record
// itself.
func FreeWide(ctx context.Context, sb Sandbox, wide uint32) error {
	if wide == 0 {
		return nil
	}
	ptr, size, err := ReadWide(sb, wide)
	if err != nil {
		return err
	}
	return errors.CombineErrors(
		FreeBuffer(ctx, sb, ptr, size),
		sb.Free(ctx, wide, WidePointerSize),
	)
}

// ServeHostCall implements the host side of the host call primitive: it reads
// the module, function and argument buffers out of sb, runs call and writes
// the result back as a freshly allocated buffer. The returned value is the
// wide pointer handed back to the guest, which becomes responsible for
// freeing it.
func ServeHostCall(
	ctx context.Context,
	sb Sandbox,
	call HostCall,
	modulePtr, moduleLen, functionPtr, functionLen, argsPtr, argsLen uint32,
) (uint32, error) {
	module, err := ReadBuffer(sb, modulePtr, moduleLen)
	if err != nil {
		return 0, errors.Wrap(err, "reading module name")
	}
	function, err := ReadBuffer(sb, functionPtr, functionLen)
	if err != nil {
		return 0, errors.Wrap(err, "reading function name")
	}
	args, err := ReadBuffer(sb, argsPtr, argsLen)
	if err != nil {
		return 0, errors.Wrap(err, "reading arguments")
	}

	res, err := call(ctx, string(module), string(function), args)
	if err != nil {
		return 0, err
	}
	return WriteWideBuffer(ctx, sb, res)
}
