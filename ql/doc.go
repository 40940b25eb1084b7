// Copyright 2016 Qubit Digital Ltd.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ql implements support for parsing and running logwatch's
// simple query expressions, compiled to message conditions.
//
// A query is a set of label and value matches. The labels available are
// those of the message (severity, type, id and the source labels such as
// filename), plus the pseudo label __text__ which matches the message
// text. Either label or value can be given as a quoted string using ",',
// or ` quotes. Four match types are supported:
//
//   = : an exact match, or the single wild card "*" for any value
//   != : any value not equal to the value
//   ~ : A regular expression match, against the whole label value
//   !~ : A negated regular expression match against the label value
//
// A label that is not set matches as the empty string. Regular
// expressions on __text__ search the text rather than matching all of it.
//
// Matches for the same label are or'd together. Matches for different labels
// are and'd together. The empty query matches every message.
//
// For example:
//
//   severity=ERROR : error messages
//   severity=ERROR severity=FATAL : error or fatal messages
//   filename~.*/app.log severity!=DEBUG : non debug messages from app.log
//   __text__~"connection (reset|refused)" : messages mentioning connection errors
//   filename=* : messages with a filename label
//
// CompileAWK provides AWK patterns for conditions the query language cannot
// express.
package ql
