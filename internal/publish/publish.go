// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package publish forwards diagnostic lines to a redis channel.
//
//	pub, err := publish.Dial(ADDR, "esca")
//	if err != nil {
//		...
//	}
//	defer pub.Close()
//	...
//	pub.Print("hello world")
package publish

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyburd/redigo/redis"
)

const (
	DefaultDepth = 64

	dialTimeout = 2 * time.Second
	rdTimeout   = 500 * time.Millisecond
	wrTimeout   = 500 * time.Millisecond

	// Most messages pipelined per flush.
	batch = 64
)

type Publisher struct {
	channel string
	ch      chan string
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64

	mu  sync.Mutex
	err error
}

// Dial connects to the redis server at addr and publishes to channel.
func Dial(addr, channel string) (*Publisher, error) {
	conn, err := redis.Dial("tcp", addr,
		redis.DialConnectTimeout(dialTimeout),
		redis.DialReadTimeout(rdTimeout),
		redis.DialWriteTimeout(wrTimeout))
	if err != nil {
		return nil, fmt.Errorf("publish: %s: %w", addr, err)
	}
	return New(conn, channel, DefaultDepth), nil
}

// New publishes through conn, which it closes with the Publisher. Up to
// depth messages are held while the connection is busy; more are dropped.
func New(conn redis.Conn, channel string, depth int) *Publisher {
	p := &Publisher{
		channel: channel,
		ch:      make(chan string, depth),
		done:    make(chan struct{}),
	}
	go p.forward(conn)
	return p
}

func (p *Publisher) forward(conn redis.Conn) {
	defer close(p.done)
	defer conn.Close()
	for {
		// block until next message
		msg, opened := <-p.ch
		if !opened {
			return
		}
		conn.Send("PUBLISH", p.channel, msg)
	drain:
		for n := 1; n < batch; n++ {
			select {
			case msg, opened = <-p.ch:
				if !opened {
					p.flush(conn)
					return
				}
				conn.Send("PUBLISH", p.channel, msg)
			default:
				break drain
			}
		}
		p.flush(conn)
	}
}

func (p *Publisher) flush(conn redis.Conn) {
	if _, err := conn.Do(""); err != nil {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}
}

// Print queues the message formed by its arguments, without blocking.
func (p *Publisher) Print(args ...interface{}) {
	select {
	case p.ch <- fmt.Sprint(args...):
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns the count of messages that found the queue full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Err returns the last connection error, if any.
func (p *Publisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close flushes queued messages and closes the connection.
func (p *Publisher) Close() error {
	p.once.Do(func() { close(p.ch) })
	<-p.done
	return p.Err()
}
