// Copyright 2024 The memidx Authors
// This file is part of memidx.
//
// memidx is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// memidx is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with memidx. If not, see <http://www.gnu.org/licenses/>.

package hashindex

import (
	"fmt"

	"github.com/go-stack/stack"
)

// ProgrammingError reports misuse of the package: erasing through a
// dead slot id, or handing the table an allocator it does not own
// exclusively. It carries the call stack of the detection site.
type ProgrammingError struct {
	Msg   string
	Stack stack.CallStack
}

func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("hashindex: programming error: %s\n%s", e.Msg, e.Stack)
}

func programmingError(format string, args ...interface{}) error {
	return &ProgrammingError{Msg: fmt.Sprintf(format, args...), Stack: stack.Trace().TrimRuntime()}
}
