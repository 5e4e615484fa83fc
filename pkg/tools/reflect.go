/*
 * Copyright 2024 caiflower Authors
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

package tools

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/modern-go/reflect2"
)

var durationType = reflect.TypeOf(time.Duration(0))

// DoTagFunc 对结构体指针的每个字段执行fn
func DoTagFunc(v interface{}, fn []func(reflect.StructField, reflect.Value) error) error {
	if reflect2.IsNil(v) {
		return nil
	}

	vType := reflect2.TypeOf(v).Type1()
	if vType.Kind() != reflect.Ptr || vType.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("DoTagFunc: want pointer to struct, got %s", vType)
	}

	indirect := reflect.Indirect(reflect.ValueOf(v))
	for i := 0; i < indirect.NumField(); i++ {
		field := indirect.Field(i)
		fieldStruct := vType.Elem().Field(i)
		for _, f := range fn {
			if err := f(fieldStruct, field); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetDefaultValueIfNil 字段为零值时设置为default标签的值，嵌套结构体递归处理
func SetDefaultValueIfNil(structField reflect.StructField, vValue reflect.Value) error {
	if !vValue.CanSet() {
		return nil
	}

	tag, hasTag := structField.Tag.Lookup("default")
	kind := vValue.Kind()
	if !hasTag && kind != reflect.Struct && kind != reflect.Ptr {
		return nil
	}

	if vValue.Type() == durationType {
		if vValue.Int() == 0 {
			d, err := time.ParseDuration(tag)
			if err != nil {
				return fmt.Errorf("field %s: %w", structField.Name, err)
			}
			vValue.SetInt(int64(d))
		}
		return nil
	}

	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if vValue.Int() == 0 {
			v, err := strconv.ParseInt(tag, 10, 64)
			if err != nil {
				return fmt.Errorf("field %s: %w", structField.Name, err)
			}
			vValue.SetInt(v)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if vValue.Uint() == 0 {
			v, err := strconv.ParseUint(tag, 10, 64)
			if err != nil {
				return fmt.Errorf("field %s: %w", structField.Name, err)
			}
			vValue.SetUint(v)
		}
	case reflect.String:
		if vValue.String() == "" {
			vValue.SetString(tag)
		}
	case reflect.Float32, reflect.Float64:
		if vValue.Float() == 0 {
			v, err := strconv.ParseFloat(tag, 64)
			if err != nil {
				return fmt.Errorf("field %s: %w", structField.Name, err)
			}
			vValue.SetFloat(v)
		}
	case reflect.Bool:
		// false与未配置无法区分，bool只能通过指针设置默认值
	case reflect.Struct:
		t := vValue.Type()
		for i := 0; i < t.NumField(); i++ {
			if err := SetDefaultValueIfNil(t.Field(i), vValue.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Ptr:
		elemType := vValue.Type().Elem()
		elemField := structField
		elemField.Type = elemType
		if !vValue.IsNil() {
			// 已配置的指针只继续处理结构体内部字段
			if elemType.Kind() == reflect.Struct {
				return SetDefaultValueIfNil(elemField, vValue.Elem())
			}
			return nil
		}
		if elemType.Kind() != reflect.Struct && !hasTag {
			return nil
		}
		vValue.Set(reflect.New(elemType))
		if elemType.Kind() == reflect.Bool {
			b, err := strconv.ParseBool(tag)
			if err != nil {
				return fmt.Errorf("field %s: %w", structField.Name, err)
			}
			vValue.Elem().SetBool(b)
			return nil
		}
		return SetDefaultValueIfNil(elemField, vValue.Elem())
	default:
	}
	return nil
}
