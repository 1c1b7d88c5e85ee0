package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Card Watch</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 960px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 2px 8px; border-radius: 8px; background: #333; font-size: 12px; }
        .badge.ok { background: #1b5e20; }
        .badge.error { background: #b71c1c; }
        .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; margin-top: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        .cards { display: flex; flex-wrap: wrap; gap: 6px; }
        .card { background: #2e7d32; padding: 4px 10px; border-radius: 6px; }
        .card.new { background: #f9a825; color: #111; }
        #live-image { max-width: 100%; image-rendering: pixelated; }
        .history { font-size: 12px; color: #aaa; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>🃏 Card Watch</h1>
            <span class="badge" id="status-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Detected cards</h2>
                <div class="cards" id="cards"></div>
                <div class="history" id="history"></div>
            </div>
            <div class="panel">
                <h2>Live view</h2>
                <label><input type="checkbox" id="annotated"> annotated</label>
                <div><img id="live-image" alt="Waiting for first capture"></div>
            </div>
            <div class="panel" style="grid-column: span 2;">
                <h2>Health</h2>
                <div id="health-info">Loading...</div>
            </div>
        </div>
    </div>

    <script>
        const cardsEl = document.getElementById('cards');
        const historyEl = document.getElementById('history');
        const badge = document.getElementById('status-badge');

        function renderCards(cards, added) {
            cardsEl.innerHTML = '';
            if (!cards.length) {
                cardsEl.textContent = 'none';
                return;
            }
            cards.forEach(name => {
                const span = document.createElement('span');
                span.className = 'card' + (added && added.includes(name) ? ' new' : '');
                span.textContent = name;
                cardsEl.appendChild(span);
            });
        }

        function pollCards() {
            fetch('/cards')
                .then(r => r.json())
                .then(data => renderCards(data.detected_cards, []))
                .catch(err => console.error('Error fetching cards:', err));
        }

        function connectStream() {
            if (!window.EventSource) {
                setInterval(pollCards, 1000);
                pollCards();
                return;
            }
            const es = new EventSource('/cards/stream');
            es.onmessage = (msg) => {
                const ev = JSON.parse(msg.data);
                renderCards(ev.detected_cards, ev.added);
                const when = new Date(ev.timestamp * 1000).toLocaleTimeString();
                historyEl.textContent = ev.reset
                    ? 'Cleared at ' + when
                    : (ev.added.length ? 'New: ' + ev.added.join(', ') + ' at ' + when : 'Cycle ' + ev.cycle);
            };
            es.onerror = () => {
                badge.textContent = 'Stream lost, retrying';
                badge.className = 'badge error';
            };
        }

        function refreshPicture() {
            const img = document.getElementById('live-image');
            const path = document.getElementById('annotated').checked ? '/picture/annotated' : '/picture';
            fetch(path + '?' + Date.now())
                .then(r => {
                    if (!r.ok) {
                        throw new Error(r.status === 404 ? 'No capture yet' : 'Server is down');
                    }
                    return r.blob();
                })
                .then(blob => {
                    const old = img.src;
                    img.src = URL.createObjectURL(blob);
                    img.alt = 'Live Image';
                    if (old.startsWith('blob:')) {
                        URL.revokeObjectURL(old);
                    }
                })
                .catch(err => { img.alt = err.message; });
        }

        function updateHealth() {
            fetch('/health')
                .then(r => r.json())
                .then(data => {
                    badge.textContent = data.status.toUpperCase();
                    badge.className = 'badge ' + data.status;
                    if (data.status !== 'ok') {
                        return;
                    }
                    const app = data.app;
                    document.getElementById('health-info').innerHTML =
                        '<p>Model loaded: ' + (app.model_loaded ? '✅' : '❌') + '</p>' +
                        '<p>Frontend image: ' + (app.frontend_image_exists ? '✅' : '❌') +
                        (app.frontend_image_last_modified
                            ? ' (updated ' + new Date(app.frontend_image_last_modified * 1000).toLocaleTimeString() + ')'
                            : '') + '</p>' +
                        '<p>Cycles: ' + app.cycles + (app.last_cycle_failed ? ' (last failed: ' + (app.last_error || 'unknown') + ')' : '') + '</p>' +
                        '<p>Goroutines: ' + data.system.goroutines + ', heap: ' + Math.round(data.system.heap_alloc / 1024) + ' KiB</p>';
                })
                .catch(() => {
                    badge.textContent = 'Server is down';
                    badge.className = 'badge error';
                });
        }

        pollCards();
        connectStream();
        refreshPicture();
        setInterval(refreshPicture, 1000);
        updateHealth();
        setInterval(updateHealth, 5000);
    </script>
</body>
</html>
`
