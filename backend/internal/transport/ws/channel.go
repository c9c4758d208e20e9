package ws

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"x-bounce/backend/internal/session"
)

// Channel доставляет позиции сферы ровно одному клиенту.
// Почтовый ящик на одно обновление: новое вытесняет еще не отправленное,
// поэтому медленный клиент не тормозит цикл тиков. Порядок доставки
// совпадает с порядком тиков, подтверждений и повторов нет.
type Channel struct {
	id      string
	out     FrameWriter
	codec   Codec
	log     *logrus.Entry
	onError func(error)

	mailbox chan session.Update
	closing chan struct{}
	done    chan struct{}

	// writeMu удерживается на время записи, поэтому после Close
	// ни одна запись не начнется
	writeMu  sync.Mutex
	closed   bool
	lastTick uint64

	closeOnce sync.Once
	outOnce   sync.Once

	sent       atomic.Uint64
	superseded atomic.Uint64
	failed     atomic.Uint64
}

// ChannelStats - счетчики канала
type ChannelStats struct {
	Sent       uint64 `json:"sent"`
	Superseded uint64 `json:"superseded"`
	Failed     uint64 `json:"failed"`
	LastTick   uint64 `json:"last_tick"`
}

// NewChannel создает канал и запускает его писателя. out принадлежит каналу.
// onError вызывается один раз при ошибке записи, после чего канал закрыт.
func NewChannel(id string, out FrameWriter, codec Codec, log *logrus.Entry, onError func(error)) *Channel {
	c := &Channel{
		id:      id,
		out:     out,
		codec:   codec,
		log:     log.WithField("session", id),
		onError: onError,
		mailbox: make(chan session.Update, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Broadcast кладет обновление в ящик, вытесняя неотправленное.
// Не блокируется. Возвращает false, если канал закрыт.
// Рассчитан на одного производителя (цикл тиков сессии).
func (c *Channel) Broadcast(update session.Update) bool {
	for {
		select {
		case <-c.closing:
			return false
		default:
		}

		select {
		case c.mailbox <- update:
			return true
		default:
		}

		select {
		case <-c.mailbox:
			c.superseded.Add(1)
		default:
		}
	}
}

func (c *Channel) run() {
	err := c.loop()
	close(c.done)

	if err != nil {
		c.failed.Add(1)
		c.log.WithError(err).Debug("[Channel] Ошибка записи, канал закрыт")
		if c.onError != nil {
			c.onError(err)
		}
	}
}

func (c *Channel) loop() error {
	for {
		select {
		case <-c.closing:
			return nil
		case update := <-c.mailbox:
			if err := c.write(update); err != nil {
				c.shutdown()
				return err
			}
		}
	}
}

func (c *Channel) write(update session.Update) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed || update.Tick <= c.lastTick {
		return nil
	}

	data, err := c.codec.Marshal(NewPositionMessage(update))
	if err != nil {
		return err
	}
	if err := c.out.WriteFrame(c.codec.FrameType(), data); err != nil {
		return err
	}

	c.lastTick = update.Tick
	c.sent.Add(1)
	return nil
}

func (c *Channel) shutdown() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()
		close(c.closing)
	})
}

// Close закрывает канал, ждет завершения писателя и закрывает out.
// Текущая запись дописывается, новых не будет: ни от канала, ни из
// очередей писателя (имитация сети).
func (c *Channel) Close() error {
	c.shutdown()
	<-c.done

	var err error
	c.outOnce.Do(func() { err = c.out.Close() })
	return err
}

// Closed сообщает, закрыт ли канал
func (c *Channel) Closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// Stats возвращает счетчики канала
func (c *Channel) Stats() ChannelStats {
	c.writeMu.Lock()
	lastTick := c.lastTick
	c.writeMu.Unlock()

	return ChannelStats{
		Sent:       c.sent.Load(),
		Superseded: c.superseded.Load(),
		Failed:     c.failed.Load(),
		LastTick:   lastTick,
	}
}

var _ session.Broadcaster = (*Channel)(nil)
