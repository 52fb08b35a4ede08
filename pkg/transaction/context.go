package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/emiago/sipgo/sip"
)

// ProvisionalHandler вызывается на каждый предварительный ответ 1xx
type ProvisionalHandler func(res *sip.Response)

// Context контекст клиентской транзакции: исходящий запрос и не более
// одного финального ответа
type Context struct {
	request       *sip.Request
	tx            ClientTransaction
	onProvisional ProvisionalHandler

	startTime time.Time

	mu          sync.Mutex
	response    *sip.Response
	provisional *sip.Response
	err         error
	elapsed     time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

func newContext(req *sip.Request, tx ClientTransaction, onProvisional ProvisionalHandler) *Context {
	return &Context{
		request:       req,
		tx:            tx,
		onProvisional: onProvisional,
		startTime:     time.Now(),
		done:          make(chan struct{}),
	}
}

// run читает ответы транзакции до финального ответа, ошибки транспорта
// или отмены ctx
func (c *Context) run(ctx context.Context) {
	responses := c.tx.Responses()
	for {
		select {
		case res, ok := <-responses:
			if !ok {
				c.finish(nil, dialog.NewNetworkError("receive", c.tx.Err()))
				return
			}
			if res == nil {
				continue
			}
			if res.StatusCode < 200 {
				c.mu.Lock()
				c.provisional = res
				c.mu.Unlock()
				if c.onProvisional != nil {
					c.onProvisional(res)
				}
				continue
			}
			c.finish(res, nil)
			return

		case <-c.tx.Done():
			// финальный ответ мог прийти одновременно с завершением
			if res := drainFinal(responses); res != nil {
				c.finish(res, nil)
				return
			}
			err := c.tx.Err()
			if err == nil {
				// транзакция закрыта без финального ответа
				c.finish(nil, dialog.NewNetworkError("receive", context.Canceled))
				return
			}
			c.finish(nil, dialog.NewNetworkError("receive", err))
			return

		case <-ctx.Done():
			c.tx.Terminate()
			c.finish(nil, dialog.NewNetworkError("receive", ctx.Err()))
			return
		}
	}
}

func drainFinal(responses <-chan *sip.Response) *sip.Response {
	for {
		select {
		case res, ok := <-responses:
			if !ok {
				return nil
			}
			if res != nil && res.StatusCode >= 200 {
				return res
			}
		default:
			return nil
		}
	}
}

func (c *Context) finish(res *sip.Response, err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.response = res
		c.err = err
		c.elapsed = time.Since(c.startTime)
		c.mu.Unlock()
		close(c.done)
	})
}

// WaitResponse ждет финальный ответ не дольше timeout. Истечение
// времени не завершает транзакцию: ожидание можно повторить.
func (c *Context) WaitResponse(timeout time.Duration) (*sip.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.response, c.err
	case <-timer.C:
		return nil, dialog.ErrTransactionTimeout(c.request.Method, timeout).
			WithCallID(callIDOf(c.request))
	}
}

// Done закрывается после финального ответа или ошибки транспорта
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Terminate прекращает транзакцию без ожидания ответа
func (c *Context) Terminate() {
	c.tx.Terminate()
}

// Request исходящий запрос
func (c *Context) Request() *sip.Request {
	return c.request
}

// Response финальный ответ или nil
func (c *Context) Response() *sip.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

// LastProvisional последний полученный 1xx или nil
func (c *Context) LastProvisional() *sip.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provisional
}

// IsResponse получен ли финальный ответ
func (c *Context) IsResponse() bool {
	return c.Response() != nil
}

// StatusCode код финального ответа, 0 если ответа нет
func (c *Context) StatusCode() int {
	res := c.Response()
	if res == nil {
		return 0
	}
	return int(res.StatusCode)
}

// Err ошибка транспорта, если транзакция завершилась без ответа
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Elapsed время от отправки до завершения. Для незавершенной
// транзакции время с момента отправки.
func (c *Context) Elapsed() time.Duration {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.elapsed
	default:
		return time.Since(c.startTime)
	}
}

func callIDOf(req *sip.Request) string {
	if req == nil {
		return ""
	}
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}
