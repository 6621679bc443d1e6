// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package frame

// Preamble octets that open every MS/TP frame
const (
	Preamble1 = 0x55
	Preamble2 = 0xFF
)

// Frame sizes
const (
	HeaderLength   = 8   // preamble(2) + type + dest + src + length(2) + header CRC
	DataCRCLength  = 2   // data CRC, least significant octet first
	MaxDataLength  = 501 // largest payload allowed on the wire
	MaxFrameLength = HeaderLength + MaxDataLength + DataCRCLength
)

// CRC seeds and the residues left by an undamaged header or payload
const (
	HeaderCRCInit = 0xFF
	HeaderCRCGood = 0x55
	DataCRCInit   = 0xFFFF
	DataCRCGood   = 0xF0B8
)
