/*
 * Copyright 2026 The Titlekit Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// MaxStatNameLen is the longest stat name the title service accepts.
	MaxStatNameLen = 63

	// MaxStatStringLen is the longest string value a stat can hold.
	MaxStatStringLen = 63
)

// ValueType represents the kind of data a stat holds. A stat's type is fixed
// by its first write and cannot change afterwards.
type ValueType int

const (
	// TypeUnset is the zero value of ValueType. No written stat holds it.
	TypeUnset ValueType = iota

	// TypeNumber is a numeric stat. Numbers are stored as float64, which
	// represents integers exactly up to 2^53.
	TypeNumber

	// TypeString is a textual stat.
	TypeString
)

// String returns the textual representation of the value type.
func (t ValueType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	default:
		return "unset"
	}
}

// StatValue is a tagged value of a single stat. The zero StatValue is unset;
// use Number, Integer or String to construct one.
type StatValue struct {
	valueType ValueType
	num       float64
	str       string
}

// Number returns a numeric StatValue.
func Number(v float64) StatValue {
	return StatValue{valueType: TypeNumber, num: v}
}

// Integer returns a numeric StatValue holding the given integer.
func Integer(v int64) StatValue {
	return StatValue{valueType: TypeNumber, num: float64(v)}
}

// String returns a textual StatValue.
func String(v string) StatValue {
	return StatValue{valueType: TypeString, str: v}
}

// Type returns the kind of data the value holds.
func (v StatValue) Type() ValueType {
	return v.valueType
}

// AsNumber returns the value as a float64. It is zero for non-numeric values.
func (v StatValue) AsNumber() float64 {
	return v.num
}

// AsInteger returns the value as an int64, truncating toward zero. It is
// zero for non-numeric values.
func (v StatValue) AsInteger() int64 {
	return int64(v.num)
}

// AsString returns the textual value. It is empty for non-string values.
func (v StatValue) AsString() string {
	return v.str
}

// IsUnset reports whether the value has never been written.
func (v StatValue) IsUnset() bool {
	return v.valueType == TypeUnset
}

// Format returns the value rendered for display.
func (v StatValue) Format() string {
	switch v.valueType {
	case TypeNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case TypeString:
		return v.str
	default:
		return ""
	}
}

type statValueJSON struct {
	Type   string   `json:"type"`
	Number *float64 `json:"number,omitempty"`
	String *string  `json:"string,omitempty"`
}

// MarshalJSON implements the json.Marshaler interface.
func (v StatValue) MarshalJSON() ([]byte, error) {
	out := statValueJSON{Type: v.valueType.String()}
	switch v.valueType {
	case TypeNumber:
		out.Number = &v.num
	case TypeString:
		out.String = &v.str
	}

	bytes, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal stat value: %w", err)
	}
	return bytes, nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (v *StatValue) UnmarshalJSON(data []byte) error {
	var in statValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal stat value: %w", err)
	}

	switch in.Type {
	case TypeNumber.String():
		var num float64
		if in.Number != nil {
			num = *in.Number
		}
		*v = Number(num)
	case TypeString.String():
		var str string
		if in.String != nil {
			str = *in.String
		}
		*v = String(str)
	case TypeUnset.String():
		*v = StatValue{}
	default:
		return fmt.Errorf("unmarshal stat value: unknown type %q", in.Type)
	}
	return nil
}

// StatDelta is the set of local changes pushed to the title service in a
// single flush.
type StatDelta struct {
	// Values holds the stats written since the previous flush.
	Values map[string]StatValue `json:"values,omitempty"`

	// Deleted holds the names of stats removed since the previous flush.
	Deleted []string `json:"deleted,omitempty"`
}

// Empty reports whether the delta carries no changes.
func (d StatDelta) Empty() bool {
	return len(d.Values) == 0 && len(d.Deleted) == 0
}

// Size returns the number of changes the delta carries.
func (d StatDelta) Size() int {
	return len(d.Values) + len(d.Deleted)
}
