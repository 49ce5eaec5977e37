// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// chatrelayNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	chatrelayNamespace = "chatrelay"

	registrySubsystem = "registry"
	routerSubsystem   = "router"

	resultLabelName  = "result"
	reasonLabelName  = "reason"
	kindLabelName    = "kind"
	sourceLabelName  = "source"
	commandLabelName = "command"
	fanoutLabelName  = "fanout"
)

// 标签取值。
const (
	AdmissionAdmitted = "admitted"
	AdmissionRejected = "rejected"

	DisconnectQuit     = "quit"
	DisconnectClosed   = "closed"
	DisconnectRemoved  = "removed"
	DisconnectShutdown = "shutdown"

	KindBroadcast     = "broadcast"
	KindPrivate       = "private"
	KindServerPrivate = "server_private"
	KindServerNotice  = "server_notice"
	KindNotice        = "notice"
	KindList          = "list"

	SourceClient   = "client"
	SourceOperator = "operator"
)

var (
	// lockBuckets 为持锁耗时直方图的桶划分，单位为毫秒。
	// [0.05 0.1 0.2 0.4 0.8 1.6 3.2 6.4 12.8 25.6 51.2 102.4 204.8 409.6 819.2 1638.4]
	lockBuckets = prometheus.ExponentialBuckets(0.05, 2, 16)

	ConnectedSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: chatrelayNamespace,
			Subsystem: registrySubsystem,
			Name:      "sessions",
			Help:      "number of sessions currently held by the registry",
		})

	SessionAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatrelayNamespace,
			Subsystem: registrySubsystem,
			Name:      "admissions_total",
			Help:      "connection admissions by result",
		}, []string{resultLabelName})

	SessionDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatrelayNamespace,
			Subsystem: registrySubsystem,
			Name:      "disconnects_total",
			Help:      "session terminations by terminal event",
		}, []string{reasonLabelName})

	RegistryLockHold = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: chatrelayNamespace,
			Subsystem: registrySubsystem,
			Name:      "lock_hold_ms",
			Help:      "time the registry lock is held while iterating sessions",
			Buckets:   lockBuckets,
		}, []string{fanoutLabelName})

	MessagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatrelayNamespace,
			Subsystem: routerSubsystem,
			Name:      "messages_total",
			Help:      "messages handed to the router by kind",
		}, []string{kindLabelName})

	SendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: chatrelayNamespace,
			Subsystem: routerSubsystem,
			Name:      "send_failures_total",
			Help:      "per-recipient delivery failures",
		})

	CommandsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatrelayNamespace,
			Subsystem: routerSubsystem,
			Name:      "commands_total",
			Help:      "commands dispatched by source and keyword",
		}, []string{sourceLabelName, commandLabelName})

	registerOnce     sync.Once
	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，对同一个 Registerer 只能调用一次。
func Register(r prometheus.Registerer) {
	r.MustRegister(ConnectedSessions)
	r.MustRegister(SessionAdmissions)
	r.MustRegister(SessionDisconnects)
	r.MustRegister(RegistryLockHold)
	r.MustRegister(MessagesRouted)
	r.MustRegister(SendFailures)
	r.MustRegister(CommandsHandled)
	metricRegisterer = r
}

// RegisterOnce 在进程生命周期内只注册一次，后续调用直接忽略。
func RegisterOnce(r prometheus.Registerer) {
	registerOnce.Do(func() {
		Register(r)
	})
}
